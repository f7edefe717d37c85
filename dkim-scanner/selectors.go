package main

// SelectorCatalogVersion identifies the built-in catalog below. The catalog
// is plain data and can be replaced wholesale from the configuration file;
// providers change their defaults over time and this list will degrade.
const SelectorCatalogVersion = "2024-02"

// DefaultSelectors is a hand-curated catalog of well-known DKIM selectors.
// Probing it is a best-effort heuristic: domains using uncommon selectors
// will simply not be found, which is accepted.
var DefaultSelectors = []string{
	// generic
	"default", "dkim", "mail", "email", "smtp", "mx", "a1", "k1", "k2", "k3",
	"s1", "s2", "s3", "selector", "selector1", "selector2", "v1", "v2",
	"key1", "key2", "private", "publickey", "dk", "beta", "sasl", "class",

	// date-coded (Google-style rotation names)
	"20161025", "20150623", "20120113", "200608", "20210112",

	// provider-specific
	"google",        // Google Workspace
	"sig1",          // Yahoo
	"pm", "pmta",    // Postmark
	"sm",            // Sendinblue
	"smtpapi",       // SendGrid
	"mandrill",      // Mailchimp transactional
	"cm",            // Campaign Monitor
	"krs",           // Kickstarter-era ESPs
	"zendesk1", "zendesk2",
	"everlytickey1", "everlytickey2", "eversrv",
	"mxvault",
	"mesmtp",
	"yousendit",
	"delta", "gamma",
	"s512", "s1024", "s2048", "spop1024", "proddkim1024",
	"dkimrnt", "dkrnt",
	"ed-dkim",
}

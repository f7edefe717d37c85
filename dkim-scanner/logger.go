package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jedisct1/dlog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func Logger(logMaxSize int, logMaxAge int, logMaxBackups int, fileName string) io.Writer {
	if fileName == "/dev/stdout" {
		return os.Stdout
	}
	if st, _ := os.Stat(fileName); st != nil && !st.Mode().IsRegular() {
		if st.Mode().IsDir() {
			dlog.Fatalf("[%v] is a directory", fileName)
		}
		fp, err := os.OpenFile(fileName, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			dlog.Fatalf("Unable to access [%v]: [%v]", fileName, err)
		}
		return fp
	}
	logger := &lumberjack.Logger{LocalTime: true, MaxSize: logMaxSize, MaxAge: logMaxAge, MaxBackups: logMaxBackups, Filename: fileName, Compress: true}

	return logger
}

// HitLog appends one line per discovered key to a dedicated log file, so the
// scan history survives log rotation of the main output.
type HitLog struct {
	sync.Mutex
	writer io.Writer
}

func NewHitLog(writer io.Writer) *HitLog {
	return &HitLog{writer: writer}
}

func (hitLog *HitLog) Log(domain string, selector string, bits int) {
	if hitLog == nil || hitLog.writer == nil {
		return
	}
	line := fmt.Sprintf("%s\t%s\t%s\t%d\n", time.Now().Format(time.RFC3339), domain, selector, bits)
	hitLog.Lock()
	_, _ = hitLog.writer.Write([]byte(line))
	hitLog.Unlock()
}

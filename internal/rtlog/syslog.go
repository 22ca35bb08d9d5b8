//go:build linux

package rtlog

import (
	"log/syslog"

	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

func newSyslogHook(tag string) (*lsyslog.SyslogHook, error) {
	return lsyslog.NewSyslogHook("", "", syslog.LOG_DAEMON, tag)
}

// Package x holds small cross-cutting helpers shared by every package in
// the indexer: structured logging and the error-kind vocabulary used to
// drive retry/fatal decisions.
package x

import "github.com/sirupsen/logrus"

// Log returns a logrus.Entry tagged with the owning package name, the way
// every component in this module identifies its log lines.
func Log(pkg string) *logrus.Entry {
	return logrus.WithField("pkg", pkg)
}

// LogErr annotates entry with err, ready for a .Error/.Fatal/.Warn call.
func LogErr(entry *logrus.Entry, err error) *logrus.Entry {
	return entry.WithField("error", err.Error())
}

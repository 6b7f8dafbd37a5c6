package dataimport

import (
	"github.com/sirupsen/logrus"
)

// Progress receives one Advance call per row; implementations must tolerate being a no-op.
type Progress interface {
	Start(name string)
	Advance(line int)
	Finish(err error)
}

type nopProgress struct{}

func (nopProgress) Start(string) {}
func (nopProgress) Advance(int) {}
func (nopProgress) Finish(error) {}

// LogProgress logs every Every rows on the given entry.
type LogProgress struct {
	Entry *logrus.Entry
	Every int

	name  string
	count int
}

func NewLogProgress(entry *logrus.Entry, every int) *LogProgress {
	if every <= 0 {
		every = 100
	}
	return &LogProgress{Entry: entry, Every: every}
}

func (p *LogProgress) Start(name string) {
	p.name = name
	p.count = 0
	p.Entry.WithField("source", name).Info("import started")
}

func (p *LogProgress) Advance(line int) {
	p.count++
	if p.count%p.Every == 0 {
		p.Entry.WithFields(logrus.Fields{"rows": p.count, "line": line}).Info("import progress")
	}
}

func (p *LogProgress) Finish(err error) {
	e := p.Entry.WithFields(logrus.Fields{"source": p.name, "rows": p.count})
	if err != nil {
		e.WithError(err).Warn("import finished with errors")
		return
	}
	e.Info("import finished")
}

func (p *LogProgress) Count() int {
	return p.count
}

// Package notifier reports operational events (rate limiting, recovery) to
// one or more destinations.
package notifier

type Notifier interface {
	Notify(msg string)
}

type Notifiers []Notifier

func (n Notifiers) Notify(msg string) {
	for _, l := range n {
		l.Notify(msg)
	}
}

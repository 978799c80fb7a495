package pipeline

import (
	"net/url"
	"strconv"
)

// CrashURL is loaded into a browsing context whose current pipeline died.
const CrashURL = "about:crashed"

// document is the behaviour a simulated page takes from its URL query:
//
//	iframes=N  create N nested browsing contexts after load
//	animate=1  keep producing display lists while not throttled
//	detach=1   remove the first nested context again after load
//	close=1    ask to be closed after load
//	crash=1    stop answering after load, without acknowledging anything
type document struct {
	iframes int
	animate bool
	detach  bool
	close   bool
	crash   bool
}

func parseDocument(raw string) document {
	u, err := url.Parse(raw)
	if err != nil {
		return document{}
	}
	q := u.Query()
	n, _ := strconv.Atoi(q.Get("iframes"))
	return document{
		iframes: max(n, 0),
		animate: flag(q, "animate"),
		detach:  flag(q, "detach"),
		close:   flag(q, "close"),
		crash:   flag(q, "crash"),
	}
}

func flag(q url.Values, name string) bool {
	v, err := strconv.ParseBool(q.Get(name))
	return err == nil && v
}

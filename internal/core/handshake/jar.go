package handshake

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// recordingJar is a cookie jar that also keeps the full Set-Cookie
// attributes of every cookie it accepts. cookiejar.Jar.Cookies only yields
// name and value, which is not enough to hand cookies back to a browser.
type recordingJar struct {
	*cookiejar.Jar

	mu    sync.Mutex
	order []string
	seen  map[string]*http.Cookie
}

func newRecordingJar() (*recordingJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &recordingJar{Jar: jar, seen: make(map[string]*http.Cookie)}, nil
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c.MaxAge < 0 {
			delete(j.seen, c.Name)
			continue
		}
		if !slices.Contains(j.order, c.Name) {
			j.order = append(j.order, c.Name)
		}
		cp := *c
		j.seen[c.Name] = &cp
	}
}

// recorded returns copies of the live cookies in first-seen order.
func (j *recordingJar) recorded() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]*http.Cookie, 0, len(j.seen))
	for _, name := range j.order {
		c, ok := j.seen[name]
		if !ok {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}

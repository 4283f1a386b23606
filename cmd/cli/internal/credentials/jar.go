package credentials

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

var _ http.CookieJar = (*Jar)(nil)

// storedCookie is a cookie as written to the jar file.
type storedCookie struct {
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Path     string        `json:"path"`
	Domain   string        `json:"domain,omitempty"`
	Expires  time.Time     `json:"expires,omitzero"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"http_only,omitempty"`
	SameSite http.SameSite `json:"same_site,omitempty"`
}

func (c storedCookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

type jarFile struct {
	Version int            `json:"version"`
	Cookies []storedCookie `json:"cookies"`
}

// Jar is a cookie jar for one backend whose cookies survive the process, the
// way a browser keeps the refresh cookie across page reloads. Cookies from
// other hosts are held in memory only.
type Jar struct {
	path string
	base *url.URL
	now  func() time.Time

	mu      sync.Mutex
	inner   *cookiejar.Jar
	cookies map[string]storedCookie
}

// Jar opens the persisted cookie jar for baseURL.
func (s *Store) Jar(baseURL string) (*Jar, error) {
	key, err := Fingerprint(baseURL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	j := &Jar{
		path:    s.cookiePath(key),
		base:    base,
		now:     time.Now,
		cookies: make(map[string]storedCookie),
	}
	if err := j.reset(); err != nil {
		return nil, err
	}
	if err := j.load(); err != nil {
		return nil, err
	}

	return j, nil
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// SetCookies implements http.CookieJar and persists changes for the backend.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)

	if !strings.EqualFold(u.Host, j.base.Host) {
		return
	}

	now := j.now()
	for _, c := range cookies {
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: c.SameSite,
		}
		if sc.Path == "" || !strings.HasPrefix(sc.Path, "/") {
			sc.Path = defaultPath(u.Path)
		}

		switch {
		case c.MaxAge < 0:
			sc.Expires = now
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		default:
			sc.Expires = c.Expires
		}

		key := sc.Name + ";" + sc.Domain + ";" + sc.Path
		if sc.expired(now) || sc.Value == "" {
			delete(j.cookies, key)
			continue
		}
		j.cookies[key] = sc
	}

	if err := j.save(); err != nil {
		log.Warn().Err(err).Msg("failed to persist cookies")
	}
}

// Clear drops every cookie and removes the jar file.
func (j *Jar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	clear(j.cookies)
	if err := j.reset(); err != nil {
		return err
	}

	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cookie file: %w", err)
	}

	log.Debug().Str("host", j.base.Host).Msg("cookies cleared")

	return nil
}

// Len returns the number of persisted cookies.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cookies)
}

func (j *Jar) reset() error {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	j.inner = inner
	return nil
}

func (j *Jar) load() error {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cookie file: %w", err)
	}

	var f jarFile
	if err := json.Unmarshal(data, &f); err != nil {
		// a corrupt jar only costs a login
		log.Warn().Err(err).Str("path", j.path).Msg("ignoring unreadable cookie file")
		return nil
	}

	now := j.now()
	for _, sc := range f.Cookies {
		if sc.expired(now) {
			continue
		}

		u := *j.base
		u.Path = sc.Path

		j.inner.SetCookies(&u, []*http.Cookie{{
			Name:     sc.Name,
			Value:    sc.Value,
			Path:     sc.Path,
			Domain:   sc.Domain,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
			SameSite: sc.SameSite,
		}})
		j.cookies[sc.Name+";"+sc.Domain+";"+sc.Path] = sc
	}

	log.Debug().Int("cookies", len(j.cookies)).Str("host", j.base.Host).Msg("cookies loaded")

	return nil
}

// save must be called with j.mu held.
func (j *Jar) save() error {
	if len(j.cookies) == 0 {
		if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	f := jarFile{Version: 1, Cookies: make([]storedCookie, 0, len(j.cookies))}
	for _, c := range j.cookies {
		f.Cookies = append(f.Cookies, c)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	return writeFileAtomic(j.path, data)
}

// defaultPath is the cookie default-path of RFC 6265 section 5.1.4.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

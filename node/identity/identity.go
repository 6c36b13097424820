// Package identity implements node-identity concerns: name/host/alive
// parsing, cookie discovery, the capability-flag set, and the creation
// counter — spec.md §4.C.
package identity

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// alive names are truncated to this many bytes on construction.
const aliveMax = 255

// Identity is the local node's name, host, cookie and negotiated
// capability set (spec.md §3, "Node").
type Identity struct {
	Alive    string
	Host     string
	Cookie   string
	Creation uint32
	Flags    Flags

	DistLow    uint16
	DistHigh   uint16
	DistChoose byte // 'n' framing chooses 5 (short), 'N' framing chooses anything else
}

// Parse splits name into (alive, host) on the first '@'. If host is
// omitted, the short local hostname is appended. Alive is truncated
// silently to aliveMax bytes.
func Parse(name, cookie string) (Identity, error) {
	alive := name
	host := ""
	if i := strings.IndexByte(name, '@'); i >= 0 {
		alive = name[:i]
		host = name[i+1:]
	}
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return Identity{}, errors.Wrap(err, "identity: resolve local hostname")
		}
		if i := strings.IndexByte(h, '.'); i >= 0 {
			h = h[:i]
		}
		host = h
	}
	if len(alive) > aliveMax {
		alive = alive[:aliveMax]
	}

	return Identity{
		Alive:      alive,
		Host:       host,
		Cookie:     cookie,
		Flags:      DefaultFlags,
		DistLow:    5,
		DistHigh:   6,
		DistChoose: 5,
	}, nil
}

// FullName is "alive@host", the atom carried on the wire as a node name.
func (id Identity) FullName() string {
	return id.Alive + "@" + id.Host
}

var (
	defaultCookieOnce sync.Once
	defaultCookieVal  string
)

// DefaultCookie reads the first line of $HOME/.erlang.cookie, trimmed.
// Any failure (missing file, unreadable home directory, ...) yields the
// empty string rather than an error, per spec.md §4.C; the lookup runs
// exactly once per process regardless of how many callers race for it.
func DefaultCookie() string {
	defaultCookieOnce.Do(func() {
		defaultCookieVal = readCookieFile()
	})
	return defaultCookieVal
}

func readCookieFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		logrus.WithError(err).Debug("identity: no home directory, defaulting cookie to empty string")
		return ""
	}
	f, err := os.Open(filepath.Join(home, ".erlang.cookie"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

package a2s

import (
	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Charset converts strings between UTF-8 and the code page a server uses
// for its wire strings. A nil Charset leaves strings untouched.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// LookupCharset resolves a WHATWG encoding name such as "gbk" or "windows-1251"
func LookupCharset(name string) (*Charset, error) {
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown charset %q", name)
	}
	return &Charset{name: name, enc: enc}, nil
}

func (c *Charset) String() string {
	if c == nil {
		return "utf-8"
	}
	return c.name
}

// Encode converts a UTF-8 string into the server code page. Characters the
// code page cannot represent are replaced.
func (c *Charset) Encode(s string) string {
	if c == nil {
		return s
	}
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).String(s)
	if err != nil {
		return s
	}
	return out
}

// Decode converts a wire string from the server code page into UTF-8
func (c *Charset) Decode(s string) string {
	if c == nil {
		return s
	}
	out, err := c.enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ashureev/companion/internal/companion"
)

// PhotoRenderer turns a photo request into a link using a URL template with
// {prompt} and {seed} placeholders. The zero value renders nothing.
type PhotoRenderer struct {
	Template string
}

// URL returns the photo link, or "" if photos are disabled or none was requested.
func (p PhotoRenderer) URL(req *companion.PhotoRequest) string {
	if req == nil || p.Template == "" {
		return ""
	}
	return strings.NewReplacer(
		"{prompt}", url.PathEscape(req.Descriptor),
		"{seed}", strconv.Itoa(req.Seed),
	).Replace(p.Template)
}

package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockAliases maps configuration names to CDP resource types.
var blockAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockResources fails every request whose resource type is listed.
func blockResources(p *rod.Page, kinds []string) {
	router := p.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(kinds, h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

// shouldBlock reports whether a resource type is in the blocked set.
func shouldBlock(kinds []string, t proto.NetworkResourceType) bool {
	for _, k := range kinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if blockAliases[k] == t || strings.EqualFold(k, string(t)) {
			return true
		}
	}
	return false
}

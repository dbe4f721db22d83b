package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests for the configured resource types. It
// returns a stop function for the hijack router.
func blockResources(page *rod.Page, types []string) func() error {
	blocked := make(map[proto.NetworkResourceType]bool, len(types))
	for _, t := range types {
		switch strings.ToLower(t) {
		case "images", "image":
			blocked[proto.NetworkResourceTypeImage] = true
		case "fonts", "font":
			blocked[proto.NetworkResourceTypeFont] = true
		case "media":
			blocked[proto.NetworkResourceTypeMedia] = true
		case "stylesheets", "stylesheet":
			blocked[proto.NetworkResourceTypeStylesheet] = true
		}
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router.Stop
}

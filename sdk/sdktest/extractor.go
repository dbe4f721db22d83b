package sdktest

// CardExtractor is a conforming extractor reading ".card" items with
// ".title" and ".price" fields and following ".next" links.
const CardExtractor = `package extractor

import (
	"strings"

	"github.com/hazyhaar/scrapewizard/sdk"
)

func Navigate(p *sdk.Page) error {
	if p.Exists(".cookie-accept") {
		_ = p.Click(".cookie-accept")
	}
	return sdk.WaitStable(p, ".card")
}

func GetItems(p *sdk.Page) ([]*sdk.Element, error) {
	return p.FindAll(".card")
}

func ParseItem(el *sdk.Element) (sdk.Record, error) {
	return sdk.Record{
		"title": el.TextOf(".title"),
		"price": strings.TrimPrefix(el.TextOf(".price"), "$"),
	}, nil
}

func NextPage(p *sdk.Page) (string, error) {
	if p.Exists(".next") {
		return ".next", nil
	}
	return "", nil
}

func Entry() *sdk.Binding { return sdk.Bind(Navigate, GetItems, ParseItem) }
`

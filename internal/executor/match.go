package executor

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	"linkrunner/internal/wpapi"
	logx "linkrunner/pkg/logx"
)

// match locates a widget carrying a given link.
type match struct {
	sidebar wpapi.Sidebar
	widget  string
}

// containsLink reports whether markup has an <a href> whose normalized href and
// anchor text equal the wanted pair.
func containsLink(markup, wantURL, wantAnchor string) bool {
	if strings.TrimSpace(markup) == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return false
	}
	u := model.NormalizeURL(wantURL)
	a := model.NormalizeAnchor(wantAnchor)
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if model.NormalizeURL(href) == u && model.NormalizeAnchor(s.Text()) == a {
			found = true
			return false
		}
		return true
	})
	return found
}

// findLinkWidget walks every widget of every rendered sidebar. Widgets that
// fail to load are skipped; the scan only fails when nothing matches.
func findLinkWidget(ctx context.Context, api API, url, anchor string, log logx.Logger) (match, error) {
	sbs, err := api.ListSidebars(ctx)
	if err != nil {
		return match{}, err
	}
	skipped := 0
	for _, sb := range sbs {
		if sb.ID == wpapi.InactiveSidebar {
			continue
		}
		for _, id := range sb.Widgets {
			if err := ctx.Err(); err != nil {
				return match{}, faults.Transport("scan widgets", err)
			}
			w, err := api.GetWidget(ctx, id)
			if err != nil {
				skipped++
				log.Debug("widget skipped", logx.String("widget", id), logx.Err(err))
				continue
			}
			if containsLink(w.HTML(), url, anchor) {
				return match{sidebar: sb, widget: id}, nil
			}
		}
	}
	if skipped > 0 {
		return match{}, faults.NotFoundf("scan widgets", "widget not found (%d widgets unreadable)", skipped)
	}
	return match{}, faults.NotFoundf("scan widgets", "widget not found")
}

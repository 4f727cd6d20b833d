package enrich

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/leadscout/leadscout/internal/leads"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Obfuscated "name [at] host [dot] tld" spellings, bracketed or
	// parenthesized.
	obfuscatedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([a-zA-Z0-9._%+-]+)\s?\[at\]\s?([a-zA-Z0-9.-]+)\s?\[dot\]\s?([a-zA-Z]{2,})\b`),
		regexp.MustCompile(`(?i)\b([a-zA-Z0-9._%+-]+)\s?\(at\)\s?([a-zA-Z0-9.-]+)\s?\(dot\)\s?([a-zA-Z]{2,})\b`),
	}

	aboutHeadingKeywords = []string{"about", "who we are", "our story", "company"}
)

// socialDomains is the fixed per-platform host allow-list; the first matching
// outbound link per platform wins.
var socialDomains = []struct {
	platform string
	hosts    []string
}{
	{"facebook", []string{"facebook.com", "fb.com", "m.facebook.com", "fb.me"}},
	{"instagram", []string{"instagram.com", "instagr.am"}},
	{"linkedin", []string{"linkedin.com", "linkedin.cn"}},
	{"youtube", []string{"youtube.com", "youtu.be"}},
}

// ExtractAll runs every extractor over page and merges the results into e
// without overwriting fields already populated.
func ExtractAll(page *Page, e leads.Enrichment) leads.Enrichment {
	if e.LogoURL == "" {
		e.LogoURL = ExtractLogoURL(page)
	}
	if e.Email == "" {
		e.Email = ExtractEmail(page)
	}
	e.Social = e.Social.Merge(ExtractSocialLinks(page))
	if e.About == "" {
		e.About = ExtractAbout(page)
	}
	return e
}

// ExtractEmail finds the best-effort contact email: visible-text pattern
// match, mailto: links, de-obfuscated at/dot spellings, then entity-decoded
// markup. The first match from any method wins.
func ExtractEmail(page *Page) string {
	text := page.Doc.Text()
	if m := emailPattern.FindString(text); m != "" {
		return m
	}

	var fromMailto string
	page.Doc.Find("a[href^='mailto:']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.Index(addr, "?"); i >= 0 {
			addr = addr[:i]
		}
		if addr != "" {
			fromMailto = addr
			return false
		}
		return true
	})
	if fromMailto != "" {
		return fromMailto
	}

	for _, re := range obfuscatedPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1] + "@" + m[2] + "." + m[3]
		}
	}

	decoded := html.UnescapeString(string(page.HTML))
	return emailPattern.FindString(decoded)
}

// ExtractSocialLinks matches outbound link hosts (plus og:/twitter: meta
// values) against the platform allow-list.
func ExtractSocialLinks(page *Page) leads.SocialLinks {
	candidates := make([]string, 0, 32)
	page.Doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			candidates = append(candidates, leads.ResolveURL(page.URL, strings.TrimSpace(href)))
		}
	})
	page.Doc.Find("meta[property^='og:'], meta[name^='twitter:']").Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok && content != "" {
			candidates = append(candidates, content)
		}
	})

	var out leads.SocialLinks
	for _, link := range candidates {
		lower := strings.ToLower(link)
		for _, entry := range socialDomains {
			if matched(lower, entry.hosts) {
				switch entry.platform {
				case "facebook":
					if out.Facebook == "" {
						out.Facebook = link
					}
				case "instagram":
					if out.Instagram == "" {
						out.Instagram = link
					}
				case "linkedin":
					if out.LinkedIn == "" {
						out.LinkedIn = link
					}
				case "youtube":
					if out.YouTube == "" {
						out.YouTube = link
					}
				}
			}
		}
		if out.Complete() {
			break
		}
	}
	return out
}

func matched(link string, hosts []string) bool {
	for _, h := range hosts {
		if strings.Contains(link, h) {
			return true
		}
	}
	return false
}

const minAboutLength = 30

// ExtractAbout finds an "about" paragraph, trying in order: elements whose
// class or id hints at "about", headings matching known keyword sets plus
// their containing block, the meta description, then JSON-LD structured data.
// The first non-empty candidate wins.
func ExtractAbout(page *Page) string {
	var found string
	page.Doc.Find("[class*='about'], [id*='about']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if len(text) > minAboutLength {
			found = text
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	page.Doc.Find("h1, h2, h3, h4, h5").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		heading := strings.ToLower(s.Text())
		for _, kw := range aboutHeadingKeywords {
			if strings.Contains(heading, kw) {
				text := strings.TrimSpace(s.Parent().Text())
				if len(text) > minAboutLength {
					found = text
					return false
				}
			}
		}
		return true
	})
	if found != "" {
		return found
	}

	if desc, ok := page.Doc.Find("meta[name='description']").Attr("content"); ok {
		if trimmed := strings.TrimSpace(desc); trimmed != "" {
			return trimmed
		}
	}

	page.Doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if trimmed := strings.TrimSpace(data.Description); trimmed != "" {
			found = trimmed
			return false
		}
		return true
	})
	return found
}

// ExtractLogoURL looks for a header logo image or icon link.
func ExtractLogoURL(page *Page) string {
	header := page.Doc.Find("header").First()
	if header.Length() == 0 {
		return ""
	}
	logo := header.Find("img[src*='logo'], .logo img, [class*='logo'] img").First()
	if src, ok := logo.Attr("src"); ok && src != "" {
		return leads.ResolveURL(page.URL, src)
	}
	icon := page.Doc.Find("link[rel*='icon']").First()
	if href, ok := icon.Attr("href"); ok && href != "" {
		return leads.ResolveURL(page.URL, href)
	}
	return ""
}

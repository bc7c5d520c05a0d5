package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"KnowledgeDigest/internal/domain"
)

const newsSystem = "You are an AI assistant that writes concise summaries of news articles. " +
	"Summaries are embedded into a knowledge base used by an assistant."

// News builds the article summary prompt. Content longer than contentLimit
// runes is cut and followed by a truncation marker; zero disables the limit.
func News(contentLimit int) BuildFunc {
	return func(g domain.Group) domain.PromptSpec {
		var article domain.Article
		if g.Article != nil {
			article = *g.Article
		}

		body := truncate(plainText(article.Content), contentLimit)

		var source string
		if article.URL != "" {
			source = "Source: " + article.URL
		}
		var title string
		if article.Title != "" {
			title = "Title: " + article.Title
		}

		return domain.PromptSpec{
			SystemInstructions: newsSystem + "\n" + CashtagRule + "\n" + FormattingRules,
			UserContent: lines(
				fmt.Sprintf("Summarize the following news article and include the publication date (%s).",
					formatDate(article.PublishedAt)),
				CashtagRule,
				title,
				source,
				"News article:",
				body,
			),
		}
	}
}

// plainText strips markup from HTML article bodies and drops empty lines.
func plainText(content string) string {
	if strings.Contains(content, "<") && strings.Contains(content, ">") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			doc.Find("script, style, noscript").Remove()
			doc.Find("br, p, div, li, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, s *goquery.Selection) {
				s.AppendHtml("\n")
			})
			content = doc.Text()
		}
	}

	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncate(text string, limit int) string {
	total := utf8.RuneCountInString(text)
	if limit <= 0 || total <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + fmt.Sprintf("\n[truncated: showing %d of %d characters]", limit, total)
}

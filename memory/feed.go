package memory

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// FeedItem 一条待写入的订阅源条目，Content 可含 HTML.
type FeedItem struct {
	Namespace string    `json:"namespace"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Link      string    `json:"link,omitempty"`
	Published time.Time `json:"published,omitempty"`
}

// IngestFeedItem 写入订阅源条目：剥离 HTML、拼上标题，
// 以 feed:<host> 为来源走标准写入管线（层规则归入情景层），
// 链接与发布时间进元数据。RSS 采集器经由这里入库.
func (s *Service) IngestFeedItem(ctx context.Context, item FeedItem) (*IngestResult, error) {
	text := StripHTML(item.Content)
	if title := strings.TrimSpace(item.Title); title != "" {
		if text == "" {
			text = title
		} else {
			text = title + "\n\n" + text
		}
	}

	source := "feed"
	if item.Link != "" {
		if u, err := url.Parse(item.Link); err == nil && u.Host != "" {
			source = "feed:" + u.Host
		}
	}

	var md map[string]any
	if item.Link != "" || !item.Published.IsZero() {
		md = make(map[string]any, 2)
		if item.Link != "" {
			md["link"] = item.Link
		}
		if !item.Published.IsZero() {
			md["published"] = item.Published.UTC().Format(time.RFC3339)
		}
	}

	return s.Ingest(ctx, IngestRequest{
		Namespace: item.Namespace,
		Text:      text,
		Source:    source,
		Metadata:  md,
	})
}

// StripHTML 把 HTML 剥成纯文本：丢弃 script/style，解码实体，
// 空白折叠为单个空格。非 HTML 输入原样折叠空白后返回.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isSkippedTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isSkippedTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isSkippedTag(name []byte) bool {
	return string(name) == "script" || string(name) == "style"
}

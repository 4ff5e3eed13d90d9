package jira

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractText flattens an Atlassian Document Format node into space-separated text.
// A node with a text value contributes it and its children are ignored; otherwise its content
// is walked in order. Plain string fields are returned as is.
func ExtractText(doc gjson.Result) string {
	switch {
	case !doc.Exists() || doc.Type == gjson.Null:
		return ""
	case doc.Type == gjson.String:
		return doc.String()
	}

	var parts []string
	doc.Get("content").ForEach(func(_, item gjson.Result) bool {
		parts = collectText(item, parts)
		return true
	})
	return strings.Join(parts, " ")
}

func collectText(node gjson.Result, parts []string) []string {
	switch {
	case node.IsArray():
		node.ForEach(func(_, item gjson.Result) bool {
			parts = collectText(item, parts)
			return true
		})
	case node.IsObject():
		if text := node.Get("text"); text.Exists() {
			return append(parts, text.String())
		}
		if content := node.Get("content"); content.Exists() {
			return collectText(content, parts)
		}
	}
	return parts
}

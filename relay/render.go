// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bureau-foundation/helpdesk/messaging"
)

// markdown renders announcement and command-response bodies. Matrix
// clients display formatted_body when present; the plain body is the
// fallback for clients without HTML support.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// renderMarkdown converts a markdown body to the HTML carried in
// formatted_body. Returns "" when the body renders to nothing beyond
// a bare paragraph identical to the input, so plain messages stay
// plain on the wire.
func renderMarkdown(body string) string {
	var builder strings.Builder
	if err := markdown.Convert([]byte(body), &builder); err != nil {
		return ""
	}
	rendered := strings.TrimSpace(builder.String())
	if rendered == "<p>"+body+"</p>" {
		return ""
	}
	return rendered
}

// notice builds an m.notice with a markdown-rendered formatted body.
func notice(body string) messaging.MessageContent {
	rendered := renderMarkdown(body)
	if rendered == "" {
		return messaging.NewNotice(body)
	}
	return messaging.NewFormattedMessage("m.notice", body, rendered)
}

// text builds an m.text with a markdown-rendered formatted body.
func text(body string) messaging.MessageContent {
	rendered := renderMarkdown(body)
	if rendered == "" {
		return messaging.NewTextMessage(body)
	}
	return messaging.NewFormattedMessage("m.text", body, rendered)
}

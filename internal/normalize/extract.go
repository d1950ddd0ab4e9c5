package normalize

import (
	"regexp"
)

// channelMentionPattern matches <#123456789> channel references in content
var channelMentionPattern = regexp.MustCompile(`<#(\d+)>`)

// ExtractChannelMentions returns the ids of channels referenced in message
// content, in order of appearance. Repeated references are kept.
func ExtractChannelMentions(content string) []string {
	matches := channelMentionPattern.FindAllStringSubmatch(content, -1)
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) > 1 {
			ids = append(ids, match[1])
		}
	}
	return ids
}

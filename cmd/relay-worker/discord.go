package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"signalrelay/internal/models"

	"github.com/bwmarrin/discordgo"
)

// maxMessageLength is Discord's limit for message content
const maxMessageLength = 2000

// discordAPI is the part of *discordgo.Session the worker calls
type discordAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// renderMirror builds the mirrored message body: the content followed by
// one line per attachment URL, cut to Discord's limit.
func renderMirror(p models.MirrorPayload) string {
	var b strings.Builder
	b.WriteString(p.Content)
	for _, a := range p.Attachments {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(a.URL)
	}
	return truncate(b.String(), maxMessageLength)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

// mirrorMessage sends the payload as a new message, with mentions disabled so
// mirrored content can never ping anyone.
func mirrorMessage(content string) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}

func restCode(err error) (status, code int) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return 0, 0
	}
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	if restErr.Message != nil {
		code = restErr.Message.Code
	}
	return status, code
}

// isGone reports errors meaning the target no longer exists, which a delete
// or revoke treats as done.
func isGone(err error) bool {
	_, code := restCode(err)
	switch code {
	case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownChannel:
		return true
	}
	return false
}

// isDiscordOutage keeps client errors (missing permissions, bad ids) from
// opening the breaker.
func isDiscordOutage(err error) bool {
	status, _ := restCode(err)
	if status == 0 {
		return true
	}
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

func describe(err error) string {
	status, code := restCode(err)
	if status == 0 {
		return err.Error()
	}
	return fmt.Sprintf("discord status %d code %d: %v", status, code, err)
}

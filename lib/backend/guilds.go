// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"net/url"
	"strconv"
)

// Guilds lists the guilds the user belongs to.
func (client *Client) Guilds(ctx context.Context) ([]Guild, error) {
	var guilds []Guild
	err := client.get(ctx, "/guilds", nil, &guilds)
	return guilds, err
}

// Guild returns one guild with its channels and roles.
func (client *Client) Guild(ctx context.Context, guildID string) (*Guild, error) {
	var guild Guild
	if err := client.get(ctx, "/guilds/"+segment(guildID), nil, &guild); err != nil {
		return nil, err
	}
	return &guild, nil
}

func (client *Client) CreateGuild(ctx context.Context, update GuildUpdate) (*Guild, error) {
	var guild Guild
	if err := client.post(ctx, "/guilds", update, &guild); err != nil {
		return nil, err
	}
	return &guild, nil
}

func (client *Client) UpdateGuild(ctx context.Context, guildID string, update GuildUpdate) (*Guild, error) {
	var guild Guild
	if err := client.patch(ctx, "/guilds/"+segment(guildID), update, &guild); err != nil {
		return nil, err
	}
	return &guild, nil
}

func (client *Client) DeleteGuild(ctx context.Context, guildID string) error {
	return client.delete(ctx, "/guilds/"+segment(guildID), nil)
}

// LeaveGuild removes the signed-in user from a guild.
func (client *Client) LeaveGuild(ctx context.Context, guildID string) error {
	return client.delete(ctx, "/guilds/"+segment(guildID)+"/members/@me", nil)
}

// Channels lists a guild's channels.
func (client *Client) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	var channels []Channel
	err := client.get(ctx, "/guilds/"+segment(guildID)+"/channels", nil, &channels)
	return channels, err
}

func (client *Client) CreateChannel(ctx context.Context, guildID string, update ChannelUpdate) (*Channel, error) {
	var channel Channel
	if err := client.post(ctx, "/guilds/"+segment(guildID)+"/channels", update, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (client *Client) UpdateChannel(ctx context.Context, guildID, channelID string, update ChannelUpdate) (*Channel, error) {
	var channel Channel
	path := "/guilds/" + segment(guildID) + "/channels/" + segment(channelID)
	if err := client.patch(ctx, path, update, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (client *Client) DeleteChannel(ctx context.Context, guildID, channelID string) error {
	return client.delete(ctx, "/guilds/"+segment(guildID)+"/channels/"+segment(channelID), nil)
}

// JoinVoiceChannel returns the SFU grant for a voice channel.
func (client *Client) JoinVoiceChannel(ctx context.Context, guildID, channelID string) (*VoiceGrant, error) {
	var grant VoiceGrant
	path := "/guilds/" + segment(guildID) + "/channels/" + segment(channelID) + "/join"
	if err := client.post(ctx, path, nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// VoiceParticipants lists who is in a voice channel.
func (client *Client) VoiceParticipants(ctx context.Context, guildID, channelID string) ([]VoiceParticipant, error) {
	var participants []VoiceParticipant
	path := "/guilds/" + segment(guildID) + "/channels/" + segment(channelID) + "/participants"
	err := client.get(ctx, path, nil, &participants)
	return participants, err
}

// CreateInvite creates an invite code for a guild.
func (client *Client) CreateInvite(ctx context.Context, guildID string, options InviteOptions) (*Invite, error) {
	var invite Invite
	if err := client.post(ctx, "/guilds/"+segment(guildID)+"/invites", options, &invite); err != nil {
		return nil, err
	}
	return &invite, nil
}

func (client *Client) Invites(ctx context.Context, guildID string) ([]Invite, error) {
	var invites []Invite
	err := client.get(ctx, "/guilds/"+segment(guildID)+"/invites", nil, &invites)
	return invites, err
}

func (client *Client) DeleteInvite(ctx context.Context, guildID, inviteID string) error {
	return client.delete(ctx, "/guilds/"+segment(guildID)+"/invites/"+segment(inviteID), nil)
}

// InviteInfo previews the guild an invite code leads to.
func (client *Client) InviteInfo(ctx context.Context, code string) (*Invite, error) {
	var invite Invite
	if err := client.get(ctx, "/invites/code/"+segment(code), nil, &invite); err != nil {
		return nil, err
	}
	return &invite, nil
}

// RedeemInvite joins the guild an invite code leads to.
func (client *Client) RedeemInvite(ctx context.Context, code string) (*Guild, error) {
	var guild Guild
	if err := client.post(ctx, "/invites/code/"+segment(code)+"/redeem", nil, &guild); err != nil {
		return nil, err
	}
	return &guild, nil
}

func (client *Client) Members(ctx context.Context, guildID string) ([]Member, error) {
	var members []Member
	err := client.get(ctx, "/guilds/"+segment(guildID)+"/members", nil, &members)
	return members, err
}

// KickMember removes a member from a guild. reason may be empty.
func (client *Client) KickMember(ctx context.Context, guildID, userID, reason string) error {
	body := struct {
		Reason string `json:"reason,omitempty"`
	}{reason}
	return client.delete(ctx, "/guilds/"+segment(guildID)+"/members/"+segment(userID), body)
}

// BanMember bans a user from a guild. reason may be empty.
func (client *Client) BanMember(ctx context.Context, guildID, userID, reason string) error {
	body := struct {
		Reason string `json:"reason,omitempty"`
	}{reason}
	return client.put(ctx, "/guilds/"+segment(guildID)+"/bans/"+segment(userID), body, nil)
}

// UnbanMember lifts a ban. Bans are keyed by Matrix user ID.
func (client *Client) UnbanMember(ctx context.Context, guildID, matrixUserID string) error {
	return client.delete(ctx, "/guilds/"+segment(guildID)+"/bans/"+segment(matrixUserID), nil)
}

func (client *Client) Roles(ctx context.Context, guildID string) ([]Role, error) {
	var roles []Role
	err := client.get(ctx, "/guilds/"+segment(guildID)+"/roles", nil, &roles)
	return roles, err
}

// AssignRole gives a member a role.
func (client *Client) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	path := "/guilds/" + segment(guildID) + "/members/" + segment(userID) + "/roles/" + segment(roleID)
	return client.put(ctx, path, nil, nil)
}

// Directory lists public guilds matching search. limit 0 means the
// server default.
func (client *Client) Directory(ctx context.Context, search string, limit, offset int) ([]Guild, error) {
	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	var guilds []Guild
	err := client.get(ctx, "/directory", query, &guilds)
	return guilds, err
}

// CreateRole adds a role. Permissions not listed default to false.
func (client *Client) CreateRole(ctx context.Context, guildID string, role Role) (*Role, error) {
	var created Role
	if err := client.post(ctx, "/guilds/"+segment(guildID)+"/roles", role, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (client *Client) DeleteRole(ctx context.Context, guildID, roleID string) error {
	return client.delete(ctx, "/guilds/"+segment(guildID)+"/roles/"+segment(roleID), nil)
}

func (client *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	path := "/guilds/" + segment(guildID) + "/members/" + segment(userID) + "/roles/" + segment(roleID)
	return client.delete(ctx, path, nil)
}

// Bans lists banned users.
func (client *Client) Bans(ctx context.Context, guildID string) ([]Member, error) {
	var bans []Member
	err := client.get(ctx, "/guilds/"+segment(guildID)+"/bans", nil, &bans)
	return bans, err
}

// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import "time"

// User is a Conact account.
type User struct {
	ID           string `json:"id"`
	MatrixUserID string `json:"matrixUserId"`
	DisplayName  string `json:"displayName"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Status       string `json:"status,omitempty"`
}

// AuthResult is returned by Login and Register.
type AuthResult struct {
	User              User   `json:"user"`
	Token             string `json:"token"`
	MatrixAccessToken string `json:"matrixAccessToken"`
	MatrixDeviceID    string `json:"matrixDeviceId"`
}

// ChannelType is the kind of a guild channel.
type ChannelType string

const (
	ChannelText         ChannelType = "text"
	ChannelVoice        ChannelType = "voice"
	ChannelStage        ChannelType = "stage"
	ChannelAnnouncement ChannelType = "announcement"
	ChannelCategory     ChannelType = "category"
)

// Channel is a guild channel. Text channels map to a Matrix room.
type Channel struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Type             ChannelType `json:"type"`
	Topic            string      `json:"topic,omitempty"`
	Position         int         `json:"position"`
	MatrixRoomID     string      `json:"matrixRoomId"`
	ParentCategoryID string      `json:"parentCategoryId,omitempty"`
	NSFW             bool        `json:"isNsfw,omitempty"`
}

// Role is a named permission set within a guild.
type Role struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Color       string          `json:"color,omitempty"`
	Position    int             `json:"position"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

// Visibility controls whether a guild is listed in the directory.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
)

// Guild is a community of channels backed by a Matrix space.
type Guild struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Slug              string     `json:"slug"`
	Description       string     `json:"description,omitempty"`
	IconURL           string     `json:"iconUrl,omitempty"`
	BannerURL         string     `json:"bannerUrl,omitempty"`
	Visibility        Visibility `json:"visibility"`
	MatrixSpaceRoomID string     `json:"matrixSpaceRoomId"`
	Channels          []Channel  `json:"channels,omitempty"`
	Roles             []Role     `json:"roles,omitempty"`
	MemberRole        *Role      `json:"memberRole,omitempty"`
}

// GuildUpdate holds fields to create or change a guild. Empty fields
// are left out of the request.
type GuildUpdate struct {
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Visibility  Visibility `json:"visibility,omitempty"`
}

// ChannelUpdate holds fields to create or change a channel.
type ChannelUpdate struct {
	Name  string      `json:"name,omitempty"`
	Type  ChannelType `json:"type,omitempty"`
	Topic string      `json:"topic,omitempty"`
}

// Member is a user's membership in a guild.
type Member struct {
	UserID string `json:"userId"`
	User   User   `json:"user"`
	Role   *Role  `json:"role,omitempty"`
	State  string `json:"state"`
}

// InviteGuild is the guild summary shown for an invite code.
type InviteGuild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IconURL     string `json:"iconUrl,omitempty"`
	MemberCount int    `json:"memberCount"`
}

// Invite is a guild invite code.
type Invite struct {
	ID        string       `json:"id"`
	Code      string       `json:"code"`
	Uses      int          `json:"uses"`
	MaxUses   *int         `json:"maxUses"`
	ExpiresAt *time.Time   `json:"expiresAt"`
	CreatedAt time.Time    `json:"createdAt"`
	URL       string       `json:"url,omitempty"`
	Guild     *InviteGuild `json:"guild,omitempty"`
}

// InviteOptions limits a new invite. Zero means unlimited.
type InviteOptions struct {
	MaxUses int `json:"maxUses,omitempty"`

	// MaxAge is the lifetime in seconds.
	MaxAge int `json:"maxAge,omitempty"`
}

// Friendship is an accepted friend.
type Friendship struct {
	FriendshipID string    `json:"friendshipId"`
	User         User      `json:"user"`
	Since        time.Time `json:"since"`
}

// FriendRequest is a pending request, incoming or outgoing. User is
// the other party.
type FriendRequest struct {
	ID        string    `json:"id"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// DMThread is a direct-message conversation backed by a Matrix room.
type DMThread struct {
	ID           string    `json:"id"`
	MatrixRoomID string    `json:"matrixRoomId"`
	CreatedAt    time.Time `json:"createdAt"`
	OtherUser    *User     `json:"otherUser"`
	IsNew        bool      `json:"isNew,omitempty"`
}

// VoiceGrant admits the user to a voice channel's SFU room.
type VoiceGrant struct {
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
}

// VoiceParticipant is a member of a voice channel as the backend
// reports it, for showing occupancy without joining.
type VoiceParticipant struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import "context"

// Friends lists accepted friends.
func (client *Client) Friends(ctx context.Context) ([]Friendship, error) {
	var friends []Friendship
	err := client.get(ctx, "/friends", nil, &friends)
	return friends, err
}

// IncomingFriendRequests lists requests waiting for the user's answer.
func (client *Client) IncomingFriendRequests(ctx context.Context) ([]FriendRequest, error) {
	var requests []FriendRequest
	err := client.get(ctx, "/friends/requests", nil, &requests)
	return requests, err
}

// OutgoingFriendRequests lists requests the user sent that are still
// pending.
func (client *Client) OutgoingFriendRequests(ctx context.Context) ([]FriendRequest, error) {
	var requests []FriendRequest
	err := client.get(ctx, "/friends/pending", nil, &requests)
	return requests, err
}

func (client *Client) SendFriendRequest(ctx context.Context, targetUserID string) (*FriendRequest, error) {
	body := struct {
		TargetUserID string `json:"targetUserId"`
	}{targetUserID}
	var request FriendRequest
	if err := client.post(ctx, "/friends/request", body, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (client *Client) AcceptFriendRequest(ctx context.Context, friendshipID string) error {
	return client.post(ctx, "/friends/"+segment(friendshipID)+"/accept", nil, nil)
}

func (client *Client) DeclineFriendRequest(ctx context.Context, friendshipID string) error {
	return client.post(ctx, "/friends/"+segment(friendshipID)+"/decline", nil, nil)
}

func (client *Client) RemoveFriend(ctx context.Context, targetUserID string) error {
	return client.delete(ctx, "/friends/"+segment(targetUserID), nil)
}

// DMThreads lists the user's direct-message threads.
func (client *Client) DMThreads(ctx context.Context) ([]DMThread, error) {
	var threads []DMThread
	err := client.get(ctx, "/dm", nil, &threads)
	return threads, err
}

// OpenDMThread returns the thread with targetUserID, creating it if
// needed. IsNew reports creation.
func (client *Client) OpenDMThread(ctx context.Context, targetUserID string) (*DMThread, error) {
	body := struct {
		TargetUserID string `json:"targetUserId"`
	}{targetUserID}
	var thread DMThread
	if err := client.post(ctx, "/dm", body, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (client *Client) DMThread(ctx context.Context, threadID string) (*DMThread, error) {
	var thread DMThread
	if err := client.get(ctx, "/dm/"+segment(threadID), nil, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

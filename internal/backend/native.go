// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package backend

import (
	"context"
	"fmt"
)

// Bridge is a position broker with an explicit permission primitive.
type Bridge interface {
	Name() string
	CheckPermissions(ctx context.Context) (PermissionState, error)
	RequestPermissions(ctx context.Context) (PermissionState, error)
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
	WatchPosition(ctx context.Context, opts PositionOptions, handler WatchHandler) (WatchID, error)
	ClearWatch(ctx context.Context, id WatchID) error
}

// Native is the Backend that delegates to a Bridge.
type Native struct {
	bridge Bridge
}

// NewNative returns a Native backend for the given bridge.
func NewNative(bridge Bridge) *Native {
	return &Native{bridge: bridge}
}

func (n *Native) Kind() Kind {
	return KindNative
}

func (n *Native) Name() string {
	return n.bridge.Name()
}

func (n *Native) Supported() bool {
	return true
}

func (n *Native) CheckPermission(ctx context.Context) (PermissionState, error) {
	return n.bridge.CheckPermissions(ctx)
}

// RequestPermission asks the bridge for location access and adopts its answer. Any answer
// other than granted fails with ErrPermissionDenied.
func (n *Native) RequestPermission(ctx context.Context) (PermissionState, error) {
	state, err := n.bridge.RequestPermissions(ctx)
	if err != nil {
		return "", err
	}
	if state != PermissionGranted {
		return state, fmt.Errorf("%w: permission %s, please enable location access in settings",
			ErrPermissionDenied, state)
	}
	return state, nil
}

func (n *Native) FetchOnce(ctx context.Context, opts PositionOptions) (Position, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	pos, err := n.bridge.CurrentPosition(ctx, opts)
	return pos, classify(err)
}

func (n *Native) Watch(ctx context.Context, opts PositionOptions, handler WatchHandler) (WatchID, error) {
	return n.bridge.WatchPosition(ctx, opts, handler)
}

func (n *Native) Unwatch(ctx context.Context, id WatchID) error {
	return n.bridge.ClearWatch(ctx, id)
}

// OnPermissionChange is a no-op, the bridge is asked for the permission state explicitly.
func (n *Native) OnPermissionChange(func(PermissionState)) {}

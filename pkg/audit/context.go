// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package audit

import "context"

type clientKey struct{}

// WithClient returns a context carrying the request's client information, so
// that components deep in the pipeline can attribute events without knowing
// about the transport.
func WithClient(ctx context.Context, c ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFrom returns the client information stored by WithClient.
func ClientFrom(ctx context.Context) ClientInfo {
	if ctx == nil {
		return ClientInfo{}
	}
	c, _ := ctx.Value(clientKey{}).(ClientInfo)
	return c
}

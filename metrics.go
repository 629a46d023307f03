// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package syncrpc

import "expvar"

// channelMetrics record channel activity counters.
type channelMetrics struct {
	framesSent  expvar.Int
	framesRecv  expvar.Int
	reqOut      expvar.Int // number of requests issued
	reqFailed   expvar.Int // number of requests reporting an error
	callbackIn  expvar.Int // number of callback invocations received
	callbackErr expvar.Int // number of callback invocations reporting an error

	emap *expvar.Map
}

var metrics = newChannelMetrics()

func newChannelMetrics() *channelMetrics {
	cm := &channelMetrics{emap: new(expvar.Map)}
	cm.emap.Set("frames_sent", &cm.framesSent)
	cm.emap.Set("frames_received", &cm.framesRecv)
	cm.emap.Set("requests_out", &cm.reqOut)
	cm.emap.Set("requests_failed", &cm.reqFailed)
	cm.emap.Set("callbacks_in", &cm.callbackIn)
	cm.emap.Set("callbacks_failed", &cm.callbackErr)
	return cm
}

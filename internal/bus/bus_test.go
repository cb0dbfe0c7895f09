// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

func TestPublishDeliversToAllSubscribersInOrder(t *testing.T) {
	b := New()
	_, ch1 := b.Subscribe(8)
	_, ch2 := b.Subscribe(8)

	ev1 := usbtx.NewSOFMarker(1, 1, 1)
	ev2 := usbtx.NewSOFMarker(2, 2, 2)
	b.Publish(ev1)
	b.Publish(ev2)

	for _, ch := range []<-chan usbtx.Emission{ch1, ch2} {
		require.Equal(t, ev1.AsEvent(), (<-ch).AsEvent())
		require.Equal(t, ev2.AsEvent(), (<-ch).AsEvent())
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(4)
	b.Unsubscribe(id)

	_, stillOpen := <-ch
	assert.False(t, stillOpen)

	b.Publish(usbtx.NewSOFMarker(1, 1, 1))
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New()
	_, slow := b.Subscribe(1)
	_, fast := b.Subscribe(4)

	for i := 0; i < 4; i++ {
		b.Publish(usbtx.NewSOFMarker(float64(i), i, i))
	}

	assert.Len(t, fast, 4)
	assert.LessOrEqual(t, len(slow), 1)
}

func TestCloseClosesAllChannels(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(1)
	b.Close()

	_, open := <-ch
	assert.False(t, open)
}

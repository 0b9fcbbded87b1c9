package syncq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/item"
)

func appendOp(id string, epoch uint64) Op {
	return Op{Kind: OpAppend, Collection: item.Cart, Epoch: epoch, Item: item.Item{ID: id, Quantity: 1}}
}

func deleteOp(id string, epoch uint64) Op {
	return Op{Kind: OpDelete, Collection: item.Cart, Epoch: epoch, ItemID: id}
}

func replaceOp(epoch uint64, ids ...string) Op {
	var items []item.Item
	for _, id := range ids {
		items = append(items, item.Item{ID: id, Quantity: 1})
	}
	return Op{Kind: OpReplace, Collection: item.Cart, Epoch: epoch, Items: items}
}

func drain(q *opQueue) []Op {
	var out []Op
	for {
		op, ok := q.TryDequeue()
		if !ok {
			return out
		}
		q.Done()
		out = append(out, op)
	}
}

func TestOpQueue_FIFO(t *testing.T) {
	q := newOpQueue()

	q.Enqueue(appendOp("a", 1))
	q.Enqueue(deleteOp("b", 1))
	q.Enqueue(appendOp("c", 1))

	got := drain(q)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].TargetID())
	assert.Equal(t, "b", got[1].TargetID())
	assert.Equal(t, "c", got[2].TargetID())
}

func TestOpQueue_ReplaceSupersedesEverythingQueued(t *testing.T) {
	q := newOpQueue()

	q.Enqueue(appendOp("a", 1))
	q.Enqueue(replaceOp(1, "a"))
	dropped, ok := q.Enqueue(replaceOp(1, "a", "b"))

	require.True(t, ok)
	assert.Equal(t, 2, dropped)

	got := drain(q)
	require.Len(t, got, 1)
	assert.Equal(t, OpReplace, got[0].Kind)
	assert.Len(t, got[0].Items, 2, "the final state is sent, not the intermediate one")
}

func TestOpQueue_DeleteDropsPendingAppendOfSameID(t *testing.T) {
	q := newOpQueue()

	q.Enqueue(appendOp("a", 1))
	q.Enqueue(appendOp("b", 1))
	dropped, _ := q.Enqueue(deleteOp("a", 1))

	assert.Equal(t, 1, dropped)
	got := drain(q)
	require.Len(t, got, 2)
	assert.Equal(t, OpAppend, got[0].Kind)
	assert.Equal(t, "b", got[0].TargetID())
	assert.Equal(t, OpDelete, got[1].Kind)
}

func TestOpQueue_AppendAfterDeleteKeepsBoth(t *testing.T) {
	q := newOpQueue()

	q.Enqueue(deleteOp("a", 1))
	dropped, _ := q.Enqueue(appendOp("a", 1))

	assert.Equal(t, 0, dropped)
	assert.Len(t, drain(q), 2)
}

func TestOpQueue_NoCoalescingAcrossEpochs(t *testing.T) {
	q := newOpQueue()

	q.Enqueue(replaceOp(1, "a"))
	dropped, _ := q.Enqueue(replaceOp(2, "b"))

	assert.Equal(t, 0, dropped)
	assert.Equal(t, 2, q.Len())
}

func TestOpQueue_Purge(t *testing.T) {
	q := newOpQueue()
	q.Enqueue(appendOp("a", 1))
	q.Enqueue(appendOp("b", 2))

	n := q.Purge(func(op Op) bool { return op.Epoch != 2 })

	assert.Equal(t, 1, n)
	got := drain(q)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].TargetID())
}

func TestOpQueue_IdleTracksInFlight(t *testing.T) {
	q := newOpQueue()

	select {
	case <-q.Idle():
	default:
		t.Fatal("new queue should be idle")
	}

	q.Enqueue(appendOp("a", 1))
	idle := q.Idle()

	_, ok := q.TryDequeue()
	require.True(t, ok)

	select {
	case <-idle:
		t.Fatal("queue must not be idle while an op is in flight")
	case <-time.After(10 * time.Millisecond):
	}

	q.Done()
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("queue should be idle after Done")
	}
}

func TestOpQueue_Close(t *testing.T) {
	q := newOpQueue()
	q.Enqueue(appendOp("a", 1))
	q.Close()
	q.Close()

	_, ok := q.Enqueue(appendOp("b", 1))
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.Closed())

	select {
	case <-q.Idle():
	default:
		t.Fatal("closed queue should report idle")
	}
}

func TestOpKind_String(t *testing.T) {
	assert.Equal(t, "append", OpAppend.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "replace", OpReplace.String())
	assert.Equal(t, "OpKind(9)", OpKind(9).String())
}

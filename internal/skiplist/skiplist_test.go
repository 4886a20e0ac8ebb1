package skiplist

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
)

func key(i int) []byte { return []byte(fmt.Sprintf("%06d", i)) }

func TestEmptySkipList(t *testing.T) {
	sl := New(nil, bytes.Compare)

	if sl.Len() != 0 {
		t.Fatalf("expected len 0, got %d", sl.Len())
	}
	if sl.Contains(key(1)) {
		t.Fatalf("expected not found in empty skiplist")
	}
}

func TestInsertAndContainsSingle(t *testing.T) {
	sl := New(nil, bytes.Compare)
	sl.Insert(key(10))

	if !sl.Contains(key(10)) {
		t.Fatalf("expected key to be present")
	}
	if sl.Contains(key(11)) {
		t.Fatalf("expected absent key to be absent")
	}
}

func TestSequentialInsertAndSeek(t *testing.T) {
	sl := New(nil, bytes.Compare)

	for i := 1; i <= 1000; i++ {
		sl.Insert(key(i))
	}

	if sl.Len() != 1000 {
		t.Fatalf("expected len 1000, got %d", sl.Len())
	}

	for i := 1; i <= 1000; i++ {
		it := sl.NewIterator()
		it.Seek(key(i))
		if !it.Valid() || !bytes.Equal(it.Key(), key(i)) {
			t.Fatalf("seek(%d) failed", i)
		}
	}
}

func TestRandomInsertAndSeek(t *testing.T) {
	sl := New(nil, bytes.Compare)
	rnd := rand.New(rand.NewSource(1))

	m := map[int]bool{}
	for len(m) < 1000 {
		m[rnd.Intn(5000)] = true
	}

	for k := range m {
		sl.Insert(key(k))
	}

	for k := range m {
		if !sl.Contains(key(k)) {
			t.Fatalf("missing key %d", k)
		}
	}
}

func TestIteratorOrdering(t *testing.T) {
	sl := New(nil, bytes.Compare)
	rnd := rand.New(rand.NewSource(2))
	n := 200

	order := rnd.Perm(n)
	for _, i := range order {
		sl.Insert(key(i))
	}

	it := sl.NewIterator()
	it.SeekFirst()
	prev := -1
	count := 0
	for it.Valid() {
		var cur int
		_, err := fmt.Sscanf(string(it.Key()), "%d", &cur)
		if err != nil {
			t.Fatal(err)
		}
		if cur <= prev {
			t.Fatalf("out of order: %d after %d", cur, prev)
		}
		prev = cur
		count++
		it.Next()
	}
	if count != n {
		t.Fatalf("expected %d entries, saw %d", n, count)
	}
}

func TestIteratorSeekLastAndPrev(t *testing.T) {
	sl := New(nil, bytes.Compare)
	for i := 0; i < 10; i++ {
		sl.Insert(key(i))
	}

	it := sl.NewIterator()
	it.SeekLast()
	if !it.Valid() || !bytes.Equal(it.Key(), key(9)) {
		t.Fatalf("expected last key to be %s, got %s", key(9), it.Key())
	}

	it.Prev()
	if !it.Valid() || !bytes.Equal(it.Key(), key(8)) {
		t.Fatalf("expected prev key to be %s, got %s", key(8), it.Key())
	}
}

func TestSeekPastEndIsInvalid(t *testing.T) {
	sl := New(nil, bytes.Compare)
	sl.Insert(key(1))

	it := sl.NewIterator()
	it.Seek(key(2))
	if it.Valid() {
		t.Fatalf("expected seek past end to be invalid")
	}
}

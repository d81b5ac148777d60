package btcp

import "testing"

func TestRecvBufferStorePop(t *testing.T) {
	b := newRecvBuffer()
	b.store(Segment{Seq: 10, DataLen: 1})
	if b.len() != 1 {
		t.Fatalf("len = %d, want 1", b.len())
	}
	seg, ok := b.pop(10)
	if !ok || seg.Seq != 10 {
		t.Fatalf("pop(10): %+v, %v", seg, ok)
	}
	if _, ok := b.pop(10); ok {
		t.Fatal("pop after removal returned ok=true")
	}
}

func TestClassify(t *testing.T) {
	const expected Seq = 1000
	cases := []struct {
		seq  Seq
		want seqClass
	}{
		{1000, seqExpected},
		{999, seqDuplicate},
		{1001, seqFuture},
		{65535, seqDuplicate},
	}
	for _, c := range cases {
		if got := classify(c.seq, expected); got != c.want {
			t.Errorf("classify(%d, %d) = %v, want %v", c.seq, expected, got, c.want)
		}
	}
}

func TestClassifyAcrossWraparound(t *testing.T) {
	const expected Seq = 0
	if got := classify(65535, expected); got != seqDuplicate {
		t.Errorf("classify(65535, 0) = %v, want seqDuplicate", got)
	}
	if got := classify(1, expected); got != seqFuture {
		t.Errorf("classify(1, 0) = %v, want seqFuture", got)
	}
}

func TestWithinWindow(t *testing.T) {
	const expected Seq = 100
	if !withinWindow(105, expected, 10) {
		t.Fatal("withinWindow(105, 100, 10) = false, want true")
	}
	if withinWindow(111, expected, 10) {
		t.Fatal("withinWindow(111, 100, 10) = true, want false")
	}
	if !withinWindow(100, expected, 0) {
		t.Fatal("withinWindow(100, 100, 0) = false, want true (zero offset always matches)")
	}
}

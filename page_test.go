package blocktree

import "testing"

func TestNodeEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		node *Node
	}{
		{
			name: "empty leaf",
			node: NewNode(5, true),
		},
		{
			name: "leaf with keys",
			node: &Node{
				BlockNumber: 7,
				IsLeaf:      true,
				NumKeys:     3,
				Keys:        [MaxKeys]uint64{1, 2, 3, 0},
				Children:    [MaxKeys + 1]uint64{10, 20, 30, 0, 0},
				Parent:      1,
			},
		},
		{
			name: "internal node",
			node: &Node{
				BlockNumber:  9,
				IsLeaf:       false,
				NumKeys:      2,
				Keys:         [MaxKeys]uint64{100, 200, 0, 0},
				Children:     [MaxKeys + 1]uint64{2, 3, 0, 0, 0},
				Parent:       0,
				LeftSibling:  4,
				RightSibling: 6,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := tt.node.Encode()
			if len(page) != BlockSize {
				t.Fatalf("Encode() length = %d, want %d", len(page), BlockSize)
			}
			got, err := DecodeNode(page, tt.node.BlockNumber)
			if err != nil {
				t.Fatalf("DecodeNode() error = %v", err)
			}
			if got.BlockNumber != tt.node.BlockNumber || got.IsLeaf != tt.node.IsLeaf || got.NumKeys != tt.node.NumKeys {
				t.Errorf("DecodeNode() = %+v, want %+v", got, tt.node)
			}
			if got.Keys != tt.node.Keys || got.Children != tt.node.Children {
				t.Errorf("DecodeNode() keys/children mismatch: got %+v, want %+v", got, tt.node)
			}
		})
	}
}

func TestDecodeNodeRejectsWrongBlock(t *testing.T) {
	page := NewNode(3, true).Encode()
	if _, err := DecodeNode(page, 4); err == nil {
		t.Fatal("DecodeNode() with mismatched block number should error")
	} else if !isKind(err, ErrCorrupt) {
		t.Errorf("DecodeNode() error kind = %v, want ErrCorrupt", err)
	}
}

func TestDecodeNodeRejectsShortPage(t *testing.T) {
	if _, err := DecodeNode(make([]byte, 10), 0); err == nil {
		t.Fatal("DecodeNode() with short page should error")
	}
}

func isKind(err error, kind ErrKind) bool {
	be, ok := err.(*Error)
	return ok && be.Kind == kind
}

package accounting

// SortByValueN stably sorts idx's rank-ordered entry list by descending
// ValueN (highest score — most leak-like — first), using a recursive
// top-down merge sort over the singly-linked NextRank chain. This mirrors the
// reference implementation's list merge sort rather than sorting a
// slice, since the rank list is also the structure reports walk.
func (idx *Index) SortByValueN() {
	idx.SetFirstRank(mergeSortRank(idx.FirstRank()))
}

func mergeSortRank(head *Entry) *Entry {
	if head == nil || head.NextRank == nil {
		return head
	}

	slow, fast := head, head.NextRank
	for fast != nil && fast.NextRank != nil {
		slow = slow.NextRank
		fast = fast.NextRank.NextRank
	}
	mid := slow.NextRank
	slow.NextRank = nil

	left := mergeSortRank(head)
	right := mergeSortRank(mid)
	return mergeRank(left, right)
}

// mergeRank merges two descending-by-ValueN lists, keeping left-side
// entries first on ties so equal scores preserve their original order.
func mergeRank(left, right *Entry) *Entry {
	var dummy Entry
	tail := &dummy
	for left != nil && right != nil {
		if left.ValueN >= right.ValueN {
			tail.NextRank = left
			left = left.NextRank
		} else {
			tail.NextRank = right
			right = right.NextRank
		}
		tail = tail.NextRank
	}
	if left != nil {
		tail.NextRank = left
	} else {
		tail.NextRank = right
	}
	return dummy.NextRank
}

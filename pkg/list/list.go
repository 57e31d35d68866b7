// Package list implements a generic doubly-linked list, used by the pager
// to track free, unpinned, and pinned pages.
package list

// List is a doubly-linked list of elements of type T.
type List[T any] struct {
	head *Link[T]
	tail *Link[T]
}

// NewList constructs a new, empty List.
func NewList[T any]() *List[T] {
	return &List[T]{}
}

// PeekHead returns a pointer to the head of the list.
func (list *List[T]) PeekHead() *Link[T] {
	return list.head
}

// PeekTail returns a pointer to the tail of the list.
func (list *List[T]) PeekTail() *Link[T] {
	return list.tail
}

// PushHead adds an element to the start of the list. Returns the added link.
func (list *List[T]) PushHead(value T) *Link[T] {
	newlink := &Link[T]{list, nil, list.head, value}
	if list.head != nil {
		list.head.prev = newlink
	}
	list.head = newlink
	if list.tail == nil {
		list.tail = newlink
	}
	return newlink
}

// PushTail adds an element to the end of the list. Returns the added link.
func (list *List[T]) PushTail(value T) *Link[T] {
	newlink := &Link[T]{list, list.tail, nil, value}
	if list.tail != nil {
		list.tail.next = newlink
	}
	list.tail = newlink
	if list.head == nil {
		list.head = newlink
	}
	return newlink
}

// Find returns the first link for which f evaluates to true, or nil.
func (list *List[T]) Find(f func(*Link[T]) bool) *Link[T] {
	for cur := list.head; cur != nil; cur = cur.next {
		if f(cur) {
			return cur
		}
	}
	return nil
}

// Map applies f to every element in the list, in head-to-tail order.
func (list *List[T]) Map(f func(*Link[T])) {
	for cur := list.head; cur != nil; cur = cur.next {
		f(cur)
	}
}

// Link is a single node in a List.
type Link[T any] struct {
	list  *List[T]
	prev  *Link[T]
	next  *Link[T]
	value T
}

// GetList returns the list that this link belongs to.
func (link *Link[T]) GetList() *List[T] {
	return link.list
}

// GetValue returns the link's value.
func (link *Link[T]) GetValue() T {
	return link.value
}

// SetValue sets the link's value.
func (link *Link[T]) SetValue(value T) {
	link.value = value
}

// GetPrev returns the link's predecessor.
func (link *Link[T]) GetPrev() *Link[T] {
	return link.prev
}

// GetNext returns the link's successor.
func (link *Link[T]) GetNext() *Link[T] {
	return link.next
}

// PopSelf removes this link from whatever list it belongs to.
func (link *Link[T]) PopSelf() {
	if link.prev == nil && link.next == nil {
		link.list.head = nil
		link.list.tail = nil
	} else if link.prev == nil {
		link.next.prev = nil
		link.list.head = link.next
	} else if link.next == nil {
		link.prev.next = nil
		link.list.tail = link.prev
	} else {
		link.prev.next = link.next
		link.next.prev = link.prev
	}
	link.list = nil
	link.next = nil
	link.prev = nil
}

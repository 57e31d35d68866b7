package hash

import (
	"xhash/pkg/pager"
	"xhash/pkg/pair"
)

// pinnedDirectory couples a pinned directory page with its typed view, so
// every fetch site can defer a single release(dirty) instead of scattering
// manual PutPage calls across each operation.
type pinnedDirectory struct {
	pgr  *pager.Pager
	page *pager.Page
	dir  *DirectoryPage
}

func (h *pinnedDirectory) release(dirty bool) {
	h.pgr.PutPage(h.page, dirty)
}

func fetchDirectory(pgr *pager.Pager, pagenum int64) (*pinnedDirectory, error) {
	page, err := pgr.GetPage(pagenum)
	if err != nil {
		return nil, err
	}
	return &pinnedDirectory{pgr: pgr, page: page, dir: newDirectoryPage(page)}, nil
}

// pinnedBucket couples a pinned bucket page with its typed view.
type pinnedBucket[K any, V any] struct {
	pgr    *pager.Pager
	page   *pager.Page
	bucket *BucketPage[K, V]
}

func (h *pinnedBucket[K, V]) release(dirty bool) {
	h.pgr.PutPage(h.page, dirty)
}

func fetchBucket[K any, V any](pgr *pager.Pager, pagenum int64, keyCodec pair.Codec[K], valCodec pair.Codec[V]) (*pinnedBucket[K, V], error) {
	page, err := pgr.GetPage(pagenum)
	if err != nil {
		return nil, err
	}
	return &pinnedBucket[K, V]{pgr: pgr, page: page, bucket: newBucketPage[K, V](page, keyCodec, valCodec)}, nil
}

func newBucket[K any, V any](pgr *pager.Pager, keyCodec pair.Codec[K], valCodec pair.Codec[V]) (*pinnedBucket[K, V], error) {
	page, err := pgr.GetNewPage()
	if err != nil {
		return nil, err
	}
	b := newBucketPage[K, V](page, keyCodec, valCodec)
	b.Init()
	return &pinnedBucket[K, V]{pgr: pgr, page: page, bucket: b}, nil
}

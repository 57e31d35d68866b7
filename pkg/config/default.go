// Global configuration for the page store backing the hash index.
package config

// The maximum number of pages that can be in the pager's buffer at once.
const MaxPagesInBuffer = 32

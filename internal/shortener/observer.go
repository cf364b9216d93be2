package shortener

// Observer receives link lifecycle events. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	LinkCreated()
	CodeCollision()
	LinkFetched()
	LinkEvicted(reason Reason)
}

type noopObserver struct{}

func (noopObserver) LinkCreated()       {}
func (noopObserver) CodeCollision()     {}
func (noopObserver) LinkFetched()       {}
func (noopObserver) LinkEvicted(Reason) {}

package resultstore

// Bind returns a function that runs the Producer f builds for each argument
// on s. Every call supersedes the previous one, so only the Producer for the
// latest argument can publish.
//
//	search := resultstore.Bind(s, func(q string) resultstore.Producer[[]Hit] {
//	    return resultstore.FromFunc(func(ctx context.Context) ([]Hit, error) {
//	        return index.Search(ctx, q)
//	    })
//	})
//	search("go")
//	search("golang") // the "go" search can no longer publish
func Bind[P, A any](s *Store[A], f func(P) Producer[A]) func(P) {
	return func(p P) {
		s.Run(f(p))
	}
}

package storage

// Store bundles the Postgres repositories behind the single datastore
// contract the orchestrator packages consume.
type Store struct {
	*SectionRepo
	*ItemRepo
	*SourceRepo
	*GenerationCallRepo
}

func NewStore(db *DB) *Store {
	return &Store{
		SectionRepo:        NewSectionRepo(db),
		ItemRepo:           NewItemRepo(db),
		SourceRepo:         NewSourceRepo(db),
		GenerationCallRepo: NewGenerationCallRepo(db),
	}
}

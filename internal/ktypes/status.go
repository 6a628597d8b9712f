package ktypes

// Status is the STATUS key's decoded form: the committed chain head
// (spec §4.6 commit_block step 9, §6 get_status).
type Status struct {
	Height    Height
	Timestamp uint64
	TotalTx   uint64
}

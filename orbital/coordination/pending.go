package coordination

// PendingQuestions returns every question addressed to role that has no
// answer recorded after it with the reversed role pair.
//
// Pairing is a heuristic, not per-question identity: a question A→B counts
// as resolved by any later answer B→A, whichever question it was meant for.
// If A asks B two questions before B answers once, both come back resolved.
// Each RoleMessage carries a minted correlation ID, so an exact-pairing mode
// can be layered on without changing the record shape; today the role-pair
// rule is authoritative.
func (s *Store) PendingQuestions(role Role) []RoleMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []RoleMessage
	for i, msg := range s.messages {
		if msg.Kind != KindQuestion || msg.To != role {
			continue
		}
		if !s.answeredAfter(msg, i) {
			pending = append(pending, msg)
		}
	}
	return pending
}

// answeredAfter reports whether an answer with the reversed role pair was
// recorded after index i. Insertion order is the tie-break, not timestamps.
func (s *Store) answeredAfter(q RoleMessage, i int) bool {
	for _, m := range s.messages[i+1:] {
		if m.Kind == KindAnswer && m.From == q.To && m.To == q.From {
			return true
		}
	}
	return false
}

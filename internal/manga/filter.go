package manga

// FilterChapters drops every chapter up to and including the cursor. A nil
// cursor keeps the whole list. The boolean is false when the cursor is not in
// the list, which is distinct from an empty result.
func FilterChapters(chapters []Chapter, cursor *Cursor) ([]Chapter, bool) {
	if cursor == nil {
		return chapters, true
	}
	for i, ch := range chapters {
		if ch.Number == cursor.Chapter && ch.Volume == cursor.Volume {
			rest := make([]Chapter, len(chapters)-i-1)
			copy(rest, chapters[i+1:])
			return rest, true
		}
	}
	return nil, false
}

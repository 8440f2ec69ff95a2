package analysis

// TagsPrompt asks for weighted topical tags.
const TagsPrompt = `You label recordings by topic.

Given a transcript, return the topics it covers as short lowercase tags (one to three words each).
Weight each tag from 0.0 to 1.0 by how central it is to the recording.
Return at least one tag and at most %d.

You must respond ONLY with JSON: {"tags": [{"name": "tag", "weight": 0.0-1.0}]}`

// TitlePrompt asks for a short descriptive title.
const TitlePrompt = `You write titles for recordings.

Given a transcript, write a specific, descriptive title of at most twelve words.
Do not use quotes, emoji or a trailing period. Never answer "Untitled".

You must respond ONLY with JSON: {"title": "..."}`

// TodoPrompt asks for the action items discussed.
const TodoPrompt = `You extract action items from recordings.

Given a transcript, list the concrete tasks, follow-ups and commitments mentioned, in the order they come up.
Each item is one imperative sentence. If nothing actionable is said, return a single item describing the
most useful follow-up for the listener.

You must respond ONLY with JSON: {"items": ["..."]}`

type tagsResponse struct {
	Tags []struct {
		Name   string  `json:"name"`
		Weight float64 `json:"weight"`
	} `json:"tags"`
}

type titleResponse struct {
	Title string `json:"title"`
}

type todoResponse struct {
	Items []string `json:"items"`
}

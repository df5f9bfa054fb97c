package classify

// DefaultRules is the rule set seeded on first run. Users edit the
// persisted file afterwards; the AI feedback loop extends it over time.
func DefaultRules() map[string]*CategoryRule {
	return map[string]*CategoryRule{
		"Coding": {
			Productive: IsProductive,
			Apps:       []string{"visual studio code", "xcode", "goland", "pycharm", "iterm2", "terminal"},
			Domains:    []string{"github.com", "gitlab.com", "stackoverflow.com", "godbolt.org"},
		},
		"Docs & Learning": {
			Productive: IsProductive,
			Domains:    []string{"developer.mozilla.org", "pkg.go.dev", "docs.python.org", "wikipedia.org", "coursera.org", "arxiv.org"},
		},
		"Communication": {
			Productive: IsProductive,
			Apps:       []string{"slack", "mail", "microsoft outlook"},
			Domains:    []string{"mail.google.com", "outlook.office.com"},
		},
		"Meetings": {
			Productive: IsProductive,
			Apps:       []string{"zoom.us", "microsoft teams"},
			Domains:    []string{"meet.google.com"},
		},
		"Productivity": {
			Productive: IsProductive,
			Apps:       []string{"notion", "obsidian", "notes", "calendar"},
			Domains:    []string{"notion.so", "linear.app", "trello.com", "docs.google.com"},
		},
		"Research": {
			Productive:         Conditional,
			Domains:            []string{"google.com", "bing.com", "duckduckgo.com", "chatgpt.com", "chat.openai.com", "claude.ai", "perplexity.ai"},
			ProductiveURLs:     []string{"scholar.google.com"},
			ProductiveKeywords: []string{"documentation", "research", "paper", "tutorial"},
		},
		"Social/Forums": {
			Productive: NotProductive,
			Domains:    []string{"reddit.com", "news.ycombinator.com", "twitter.com", "x.com", "facebook.com", "instagram.com", "lobste.rs"},
		},
		"Shopping": {
			Productive: NotProductive,
			Domains:    []string{"amazon.com", "ebay.com", "aliexpress.com"},
		},
		"Entertainment": {
			Productive:         Conditional,
			Domains:            []string{"youtube.com", "netflix.com", "twitch.tv", "open.spotify.com"},
			ProductiveKeywords: []string{"tutorial", "lecture", "course", "conference", "talk"},
		},
		"Gaming": {
			Productive: NotProductive,
			Apps:       []string{"steam", "dota 2"},
			Domains:    []string{"store.steampowered.com"},
		},
		"Utilities": {
			Productive: NotProductive,
			Apps:       []string{"finder", "system settings", "activity monitor"},
		},
	}
}

package anthropic

// BuildCachedSystemBlocks constructs a system content block with a cache
// breakpoint set to a 1-hour TTL. Used for system prompts that stay constant
// across calls, such as a fixed grading policy.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}

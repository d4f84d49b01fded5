package research

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentBlock_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, ContentBlock{Kind: BlockHeading, Text: "Key Takeaways", Level: 2}.Validate())
	require.NoError(t, ContentBlock{Kind: BlockParagraph, Text: "some text"}.Validate())
	require.NoError(t, ContentBlock{Kind: BlockList, Items: []string{"one"}}.Validate())

	require.Error(t, ContentBlock{Kind: BlockHeading, Level: 2}.Validate())
	require.Error(t, ContentBlock{Kind: BlockHeading, Text: "h", Level: 0}.Validate())
	require.Error(t, ContentBlock{Kind: BlockHeading, Text: "h", Level: 7}.Validate())
	require.Error(t, ContentBlock{Kind: BlockParagraph}.Validate())
	require.Error(t, ContentBlock{Kind: BlockList}.Validate())
	require.Error(t, ContentBlock{Kind: "table"}.Validate())
}

func TestArticle_Validate(t *testing.T) {
	t.Parallel()

	good := Article{
		TopicID: "t1",
		Title:   "best espresso machines",
		Blocks: []ContentBlock{
			{Kind: BlockParagraph, Text: "intro"},
			{Kind: BlockHeading, Text: "Key Takeaways", Level: 2},
			{Kind: BlockList, Items: []string{"one", "two"}},
		},
	}
	require.NoError(t, good.Validate())

	require.Error(t, Article{Blocks: good.Blocks}.Validate(), "title is required")

	bad := good
	bad.Blocks = append([]ContentBlock{}, good.Blocks...)
	bad.Blocks[1] = ContentBlock{Kind: BlockHeading}
	err := bad.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "block 1")
}

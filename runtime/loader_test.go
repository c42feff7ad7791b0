package runtime

import (
	"testing"
	"testing/fstest"

	"ghost-chat/errors"

	"github.com/stretchr/testify/require"
)

func TestCensoredLoader_LoadAll(t *testing.T) {
	req := require.New(t)
	files := fstest.MapFS{
		"censored/en.txt":    {Data: []byte("damn\r\ncrap\n\n  damn  \n")},
		"censored/fr.txt":    {Data: []byte("merde\n")},
		"censored/README.md": {Data: []byte("ignored")},
	}

	data, err := NewCensoredLoader(files).LoadAll("censored")

	req.NoError(err)
	req.Equal([]string{"crap", "damn", "merde"}, data.Words)
	req.ElementsMatch([]string{"en", "fr"}, data.Languages)
}

func TestCensoredLoader_Empty(t *testing.T) {
	req := require.New(t)
	files := fstest.MapFS{"censored/en.txt": {Data: []byte("\n\n")}}

	_, err := NewCensoredLoader(files).LoadAll("censored")

	req.ErrorIs(err, errors.ErrEmptyWords)
}

func TestCensoredLoader_Embedded_Lists(t *testing.T) {
	req := require.New(t)

	data, err := NewCensoredLoader(censoredFolder).LoadAll("censored")

	req.NoError(err)
	req.NotEmpty(data.Words)
	req.ElementsMatch([]string{"en", "fr"}, data.Languages)
}

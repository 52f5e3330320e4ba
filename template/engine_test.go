package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables(t *testing.T) {
	t.Run("distinct sorted identifiers", func(t *testing.T) {
		vars := Variables("hi ${name}, your code is ${code}, bye ${name}")
		assert.Equal(t, []string{"code", "name"}, vars)
	})

	t.Run("no placeholders", func(t *testing.T) {
		assert.Empty(t, Variables("plain text"))
	})

	t.Run("case sensitive", func(t *testing.T) {
		vars := Variables("${Name} ${name}")
		assert.Equal(t, []string{"Name", "name"}, vars)
	})
}

func TestReplace(t *testing.T) {
	t.Run("full substitution leaves no tokens", func(t *testing.T) {
		out := Replace("hi ${name}, code ${code}", map[string]string{
			"name": "Al",
			"code": "42",
		})
		assert.Equal(t, "hi Al, code 42", out)
		assert.Empty(t, Variables(out))
	})

	t.Run("missing key stays verbatim", func(t *testing.T) {
		out := Replace("hi ${name}, code ${code}", map[string]string{"name": "Al"})
		assert.Equal(t, "hi Al, code ${code}", out)
		assert.Equal(t, []string{"code"}, Variables(out))
	})

	t.Run("empty values map", func(t *testing.T) {
		content := "hi ${name}"
		assert.Equal(t, content, Replace(content, nil))
	})
}

func TestParseValues(t *testing.T) {
	t.Run("strings and numbers", func(t *testing.T) {
		values, err := ParseValues(`{"name":"Al","age":30,"score":9.5}`)
		require.NoError(t, err)
		assert.Equal(t, "Al", values["name"])
		assert.Equal(t, "30", values["age"])
		assert.Equal(t, "9.5", values["score"])
	})

	t.Run("empty input", func(t *testing.T) {
		values, err := ParseValues("")
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseValues("{broken")
		assert.Error(t, err)
	})
}

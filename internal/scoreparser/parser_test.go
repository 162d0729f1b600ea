package scoreparser

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 4},
		{"whitespace", "   \n", 4},
		{"plain integer", "6", 6},
		{"above range", "9", 7},
		{"negative", "-3", 1},
		{"decimal rounds up", "4.6", 5},
		{"decimal rounds down", "4.4", 4},
		{"trailing period", " 5. ", 5},
		{"exponent", "1e3", 7},
		{"nan", "NaN", 4},
		{"infinity", "Infinity", 4},
		{"inf", "+inf", 4},
		{"json infinity string", `{"score": "inf"}`, 4},
		{"hyphenated acronym", "COVID-19 relevance for this paper: 6", 7},
		{"hyphenated model name", "A GPT-4 based tool; I rate it 6", 4},
		{"negative after space", "I rate it -2", 1},
		{"one digit run", "Score: 6 out of 7", 6},
		{"digit run in prose", "I would rate this a 3 because the abstract is off-topic", 3},
		{"final answer marker", "Considering 2 aspects and 5 criteria. Final answer: 6", 6},
		{"my answer is marker", "It covers radiology. My answer is: 7", 7},
		{"think block", "<think>maybe 2, maybe 3</think>\n5", 5},
		{"fenced", "```\n2\n```", 2},
		{"json object", `{"score": 5}`, 5},
		{"extremely relevant", "This paper is extremely relevant to the topic", 7},
		{"not relevant", "not relevant at all", 1},
		{"very slightly", "It is very slightly relevant", 2},
		{"highest phrase wins", "somewhat relevant, arguably very relevant", 6},
		{"no signal", "I cannot decide", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestJSONScoreStrategy(t *testing.T) {
	v, ok := JSONScore(`Here you go: {"reason": "fits", "score": "3"}`)
	require.True(t, ok)
	require.Equal(t, 3, v)

	v, ok = JSONScore(`{"Score": 12}`)
	require.True(t, ok)
	require.Equal(t, 7, v)

	_, ok = JSONScore(`{"rating": 3}`)
	require.False(t, ok)

	_, ok = JSONScore(`{broken`)
	require.False(t, ok)
}

func TestReasoningOnlyAppliesWithMarker(t *testing.T) {
	_, ok := Reasoning("6")
	require.False(t, ok)

	v, ok := Reasoning("thinking... therefore, the score is 2")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestCustomStrategiesFallback(t *testing.T) {
	p := NewWithStrategies(10, func(string) (int, bool) { return 0, false })
	require.Equal(t, 7, p.Parse("anything"))

	panicky := NewWithStrategies(4, func(string) (int, bool) { panic("boom") })
	require.Equal(t, 4, panicky.Parse("anything"))
}

func TestParseAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("0123456789-.eE {}\":scoreSCOREfinalanswer<think>/ relevantnotvery\n")
	for i := 0; i < 2000; i++ {
		n := rng.Intn(40)
		buf := make([]rune, n)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		got := Parse(string(buf))
		require.GreaterOrEqual(t, got, 1, "input %q", string(buf))
		require.LessOrEqual(t, got, 7, "input %q", string(buf))
	}
}

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-grader/api/internal/apperr"
)

const validReply = `{"studentName":"Ann","recognizedText":"X happens because of Y.","feedback":"Cites Y: \"because of Y\".","totalScore":2,"maxScore":2,"scoreBreakdown":[{"description":"Mentions Y: \"because of Y\"","pointsAwarded":2,"maxPoints":2}]}`

func TestDecodeReplyFencedAndBareAgree(t *testing.T) {
	bare, err := DecodeReply(validReply)
	require.NoError(t, err)
	fenced, err := DecodeReply("```json\n" + validReply + "\n```")
	require.NoError(t, err)

	assert.Equal(t, bare, fenced)
	assert.Equal(t, "Ann", bare.StudentName)
	assert.Equal(t, 2.0, bare.TotalScore)
	require.Len(t, bare.ScoreBreakdown, 1)
	assert.Equal(t, 2.0, bare.ScoreBreakdown[0].PointsAwarded)
}

func TestDecodeReplyEmptyBreakdownIsValid(t *testing.T) {
	res, err := DecodeReply(`{"studentName":"N/A","recognizedText":"","feedback":"Blank page.","totalScore":0,"maxScore":0,"scoreBreakdown":[]}`)
	require.NoError(t, err)
	assert.NotNil(t, res.ScoreBreakdown)
	assert.Empty(t, res.ScoreBreakdown)
}

func TestDecodeReplyDoesNotClampPoints(t *testing.T) {
	res, err := DecodeReply(`{"studentName":"N/A","recognizedText":"","feedback":"","totalScore":3,"maxScore":2,"scoreBreakdown":[{"description":"d","pointsAwarded":3,"maxPoints":2}]}`)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.ScoreBreakdown[0].PointsAwarded)
}

func TestDecodeReplyErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"empty", "", apperr.ErrEmptyReply},
		{"whitespace", " \n\t", apperr.ErrEmptyReply},
		{"empty fence", "```json\n```", apperr.ErrEmptyReply},
		{"prose", "The student did well.", apperr.ErrMalformedReply},
		{"missing breakdown", `{"studentName":"A","recognizedText":"","feedback":"","totalScore":1,"maxScore":2}`, apperr.ErrMalformedReply},
		{"score as string", `{"studentName":"A","recognizedText":"","feedback":"","totalScore":"1","maxScore":2,"scoreBreakdown":[]}`, apperr.ErrMalformedReply},
		{"item missing maxPoints", `{"studentName":"A","recognizedText":"","feedback":"","totalScore":1,"maxScore":2,"scoreBreakdown":[{"description":"d","pointsAwarded":1}]}`, apperr.ErrMalformedReply},
		{"array", `[]`, apperr.ErrMalformedReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeReply(tt.reply)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

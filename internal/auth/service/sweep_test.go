package service

import (
	"context"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	dErrors "warden/pkg/domain-errors"
)

func (s *ServiceSuite) TestSweepExpired() {
	ctx := context.Background()

	s.Run("tokens are swept before sessions", func() {
		gomock.InOrder(
			s.mockTokens.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(5, nil),
			s.mockSessions.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(3, nil),
		)

		tokens, sessions, err := s.service.SweepExpired(ctx)
		s.Require().NoError(err)
		s.Equal(5, tokens)
		s.Equal(3, sessions)
	})

	s.Run("token sweep failure stops before the session sweep", func() {
		s.mockTokens.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(0, assert.AnError)

		_, _, err := s.service.SweepExpired(ctx)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("session sweep failure reports the tokens already gone", func() {
		s.mockTokens.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(2, nil)
		s.mockSessions.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(0, assert.AnError)

		tokens, _, err := s.service.SweepExpired(ctx)
		s.Require().Error(err)
		s.Equal(2, tokens)
	})
}

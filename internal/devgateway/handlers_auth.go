package devgateway

import (
	"net/http"

	"github.com/wolfeidau/pollbooth/internal/auth"
	"github.com/wolfeidau/pollbooth/internal/gateway"
	apihttp "github.com/wolfeidau/pollbooth/internal/http"
)

func (s *Server) handleCheckCredentials(w http.ResponseWriter, r *http.Request) {
	var req gateway.CheckCredentialsRequest
	if !apihttp.DecodeJSON(w, r, &req) {
		return
	}

	emp, ok := s.fixture.byEmpID(req.EmpID)
	if !ok || emp.BirthDate != req.BirthDate {
		s.logger.Debug().Str("emp_id", req.EmpID).Msg("credential check failed")
		apihttp.WriteError(w, http.StatusUnauthorized, "invalid employee id or birth date")
		return
	}

	if emp.SkipOTP {
		user := emp.User
		token, err := s.signer.IssueToken(&user, s.cfg.TokenTTL)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to issue token")
			apihttp.WriteError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, gateway.CheckCredentialsResponse{
			Success:   true,
			Token:     token,
			User:      &user,
			ExpiresIn: s.cfg.TokenTTL.Milliseconds(),
		})
		return
	}

	apihttp.WriteJSON(w, http.StatusOK, gateway.CheckCredentialsResponse{
		Success:     true,
		Email:       emp.Email,
		OTPRequired: true,
	})
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !apihttp.DecodeJSON(w, r, &req) {
		return
	}

	if _, ok := s.fixture.byEmail(req.Email); !ok {
		apihttp.WriteError(w, http.StatusUnauthorized, "unknown email")
		return
	}

	if !s.sendLimiter.Allow(req.Email) {
		apihttp.WriteError(w, http.StatusTooManyRequests, "too many codes requested, try again later")
		return
	}

	code, err := generateCode()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate code")
		apihttp.WriteError(w, http.StatusInternalServerError, "failed to generate code")
		return
	}

	s.codes.put(req.Email, code, s.clock.Now().Add(s.cfg.OTPWindow))

	// there is no mail delivery; the code is only visible here and on /dev/otp
	s.logger.Info().Str("email", req.Email).Str("otp", code).Msg("one-time code issued")

	apihttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !apihttp.DecodeJSON(w, r, &req) {
		return
	}

	emp, ok := s.fixture.byEmail(req.Email)
	if !ok || !s.codes.verify(req.Email, req.OTP) {
		apihttp.WriteError(w, http.StatusUnauthorized, "invalid or expired code")
		return
	}

	user := emp.User
	token, err := s.signer.IssueToken(&user, s.cfg.TokenTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to issue token")
		apihttp.WriteError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	apihttp.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	s.verifier.Revoke(claims)

	s.logger.Info().Str("user", claims.UserID).Msg("signed out")

	apihttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDevOTP(w http.ResponseWriter, r *http.Request) {
	code, ok := s.codes.get(r.URL.Query().Get("email"))
	if !ok {
		apihttp.WriteError(w, http.StatusNotFound, "no outstanding code")
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]string{"otp": code})
}

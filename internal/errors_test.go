package internal_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/frahmantamala/crm-authz/internal"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AppError", func() {
	It("matches sentinels by code through wrapping", func() {
		err := fmt.Errorf("assign: %w", internal.NewNotFoundError("no such role", internal.ErrCodeRoleNotFound))
		Expect(errors.Is(err, internal.ErrRoleNotFound)).To(BeTrue())
		Expect(errors.Is(err, internal.ErrOrganizationNotFound)).To(BeFalse())

		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("keeps the cause out of the response body", func() {
		appErr := internal.NewRemoteWriteError("set phone visibility", errors.New("connection reset by peer"))
		Expect(errors.Unwrap(appErr)).To(MatchError("connection reset by peer"))

		status, body := appErr.ToHTTPResponse()
		Expect(status).To(Equal(http.StatusBadGateway))
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring(`"code":"REMOTE_WRITE_FAILED"`))
		Expect(string(raw)).NotTo(ContainSubstring("connection reset"))
	})

	It("lists field errors in its message", func() {
		appErr := internal.NewValidationFieldError("page_path", "page_path is required", internal.ErrCodeValidationFailed)
		Expect(appErr.Error()).To(ContainSubstring("page_path"))
	})
})

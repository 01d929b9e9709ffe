package auth

import "github.com/hjunqq/hydrosim-platform/internal/types"

// Role identifies the kind of authenticated caller.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleTeacher     Role = "teacher"
	RoleStudent     Role = "student"
	RoleDeployToken Role = "deploy_token"
)

// Actor is the authenticated caller the core operations authorize against.
// Teacher and Student carry their row id; Student additionally carries the
// student code; DeployToken carries only the code it was signed for.
type Actor struct {
	Role        Role
	ID          int64
	StudentCode string
}

func Admin() Actor {
	return Actor{Role: RoleAdmin}
}

func Teacher(id int64) Actor {
	return Actor{Role: RoleTeacher, ID: id}
}

func Student(id int64, code string) Actor {
	return Actor{Role: RoleStudent, ID: id, StudentCode: code}
}

func DeployToken(code string) Actor {
	return Actor{Role: RoleDeployToken, StudentCode: code}
}

// ownsStudent reports whether a teacher actor owns the target student.
func ownsStudent(actor Actor, student *types.Student) bool {
	return student.TeacherID != nil && *student.TeacherID == actor.ID
}

// CanViewStudent gates read access: admins see everything, teachers their
// own students, students themselves.
func CanViewStudent(actor Actor, student *types.Student) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return ownsStudent(actor, student)
	case RoleStudent:
		return actor.ID == student.ID
	}
	return false
}

// CanDeploy gates the deploy operation. A signed deploy token is valid for
// exactly the student it was issued for, and for nothing else.
func CanDeploy(actor Actor, student *types.Student) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return ownsStudent(actor, student)
	case RoleStudent:
		return actor.ID == student.ID
	case RoleDeployToken:
		return actor.StudentCode == student.StudentCode
	}
	return false
}

// CanDelete gates workload deletion. Deploy tokens are never allowed to
// delete.
func CanDelete(actor Actor, student *types.Student) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return ownsStudent(actor, student)
	}
	return false
}

// CanRotateDeployKey gates deploy-key rotation: only admins and the owning
// teacher, never the student itself.
func CanRotateDeployKey(actor Actor, student *types.Student) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return ownsStudent(actor, student)
	}
	return false
}

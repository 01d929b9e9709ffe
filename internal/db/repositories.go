package db

// Repositories bundles the typed repositories over one database handle.
type Repositories struct {
	Students     *StudentRepository
	BuildConfigs *BuildConfigRepository
	Builds       *BuildRepository
	Deployments  *DeploymentRepository
	Registries   *RegistryRepository
	Settings     *SettingRepository
}

func NewRepositories(db DBTX) *Repositories {
	return &Repositories{
		Students:     NewStudentRepository(db),
		BuildConfigs: NewBuildConfigRepository(db),
		Builds:       NewBuildRepository(db),
		Deployments:  NewDeploymentRepository(db),
		Registries:   NewRegistryRepository(db),
		Settings:     NewSettingRepository(db),
	}
}
